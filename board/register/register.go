// Package register registers all relevant board models
package register

import (
	// for boards.
	_ "github.com/sensord-io/sensord/board/fake"
	_ "github.com/sensord-io/sensord/board/genericlinux"
)
