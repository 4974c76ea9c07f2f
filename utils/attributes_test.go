package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestAttributeMap(t *testing.T) {
	am := AttributeMap{
		"str":   "hello",
		"int":   5,
		"jint":  7.0,
		"float": 2.5,
		"bool":  true,
	}

	test.That(t, am.Has("str"), test.ShouldBeTrue)
	test.That(t, am.Has("missing"), test.ShouldBeFalse)

	test.That(t, am.GetString("str"), test.ShouldEqual, "hello")
	test.That(t, am.GetString("missing"), test.ShouldEqual, "")
	test.That(t, func() { am.GetString("int") }, test.ShouldPanic)

	test.That(t, am.GetInt("int", 0), test.ShouldEqual, 5)
	test.That(t, am.GetInt("jint", 0), test.ShouldEqual, 7)
	test.That(t, am.GetInt("missing", 42), test.ShouldEqual, 42)
	test.That(t, func() { am.GetInt("str", 0) }, test.ShouldPanic)

	test.That(t, am.GetFloat64("float", 0), test.ShouldEqual, 2.5)
	test.That(t, am.GetFloat64("int", 0), test.ShouldEqual, 5.0)
	test.That(t, am.GetFloat64("missing", 1.5), test.ShouldEqual, 1.5)

	test.That(t, am.GetBool("bool", false), test.ShouldBeTrue)
	test.That(t, am.GetBool("missing", true), test.ShouldBeTrue)
	test.That(t, func() { am.GetBool("int", false) }, test.ShouldPanic)
}

func TestAttributeMapCopy(t *testing.T) {
	am := AttributeMap{"a": 1}
	cp := am.Copy()
	cp["a"] = 2
	cp["b"] = 3

	test.That(t, am.GetInt("a", 0), test.ShouldEqual, 1)
	test.That(t, am.Has("b"), test.ShouldBeFalse)
}

func TestTransformAttributeMap(t *testing.T) {
	type myAttrs struct {
		Pin        int     `json:"pin"`
		Addr       int     `json:"i2c_addr"`
		Channel    int     `json:"channel"`
		SampleRate float64 `json:"samples_per_sec"`
		Name       string  `json:"name"`
	}

	attrs := AttributeMap{
		"pin":             4.0,
		"i2c_addr":        118.0,
		"samples_per_sec": 10.5,
		"name":            "probe",
		"extraneous":      "ignored",
	}

	out, err := TransformAttributeMap[myAttrs](attrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Pin, test.ShouldEqual, 4)
	test.That(t, out.Addr, test.ShouldEqual, 118)
	test.That(t, out.Channel, test.ShouldEqual, 0)
	test.That(t, out.SampleRate, test.ShouldEqual, 10.5)
	test.That(t, out.Name, test.ShouldEqual, "probe")

	outPtr, err := TransformAttributeMap[*myAttrs](attrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outPtr, test.ShouldNotBeNil)
	test.That(t, outPtr.Pin, test.ShouldEqual, 4)
}

func TestRollingAverage(t *testing.T) {
	ra := NewRollingAverage(3)
	test.That(t, ra.NumSamples(), test.ShouldEqual, 3)
	test.That(t, ra.Average(), test.ShouldEqual, 0.0)

	ra.Add(3)
	test.That(t, ra.Average(), test.ShouldEqual, 3.0)

	ra.Add(6)
	ra.Add(9)
	test.That(t, ra.Average(), test.ShouldEqual, 6.0)

	// window slides
	ra.Add(12)
	test.That(t, ra.Average(), test.ShouldEqual, 9.0)
}
