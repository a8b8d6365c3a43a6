// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"testing"

	"periph.io/x/d2xx"
	"periph.io/x/d2xx/d2xxtest"
)

func fakeFT232R(vid, pid uint16) *d2xxtest.Fake {
	return &d2xxtest.Fake{
		DevType: uint32(DevTypeFT232R),
		Vid:     vid,
		Pid:     pid,
		Data:    [][]byte{{}, {0}},
	}
}

func TestOpenFT232R(t *testing.T) {
	defer UseFakeDevices(nil, nil)
	UseFakeDevices(func(i int) (d2xx.Handle, d2xx.Err) {
		if i != 0 {
			t.Fatalf("unexpected index %d", i)
		}
		return fakeFT232R(0x0403, 0x6014), 0
	}, func() (int, error) { return 1, nil })

	f, err := OpenFT232R(0x0403, 0x6014, 0)
	if err != nil {
		t.Fatalf("OpenFT232R() = %v", err)
	}
	if s := f.String(); s != "FT232R" {
		t.Fatalf("String() = %q", s)
	}
}

func TestOpenFT232RNotFound(t *testing.T) {
	defer UseFakeDevices(nil, nil)
	UseFakeDevices(func(i int) (d2xx.Handle, d2xx.Err) {
		return fakeFT232R(0x0403, 0x6014), 0
	}, func() (int, error) { return 1, nil })

	if _, err := OpenFT232R(0x1234, 0x5678, 0); err == nil {
		t.Fatal("expected error for mismatched vid/pid")
	}
}

// TestOpenFT232RNth verifies that a second matching device, sharing the
// same VID/PID as the first (as FT2232H/FT4232H channels do), is reached
// through nth rather than always returning the first match.
func TestOpenFT232RNth(t *testing.T) {
	defer UseFakeDevices(nil, nil)
	opened := map[int]bool{}
	UseFakeDevices(func(i int) (d2xx.Handle, d2xx.Err) {
		opened[i] = true
		return fakeFT232R(0x0403, 0x6014), 0
	}, func() (int, error) { return 2, nil })

	if _, err := OpenFT232R(0x0403, 0x6014, 1); err != nil {
		t.Fatalf("OpenFT232R() = %v", err)
	}
	if !opened[0] || !opened[1] {
		t.Fatalf("expected both indices to be probed, got %v", opened)
	}
}
