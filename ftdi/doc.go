// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi drives FT232H/FT2232H/FT4232H devices in MPSSE mode and
// FT232R devices in synchronous bit-bang mode, the two FTDI USB-to-serial
// chip families used as JTAG cables (see internal/transport's MPSSE and
// Bitbang types). OpenFT232H and OpenFT232R select a device by USB VID/PID
// and by position among the matches, so a multi-interface chip's two MPSSE
// channels (e.g. a bus_blaster's JTAG and UART-passthrough interfaces) can
// be told apart.
//
// This package does not attempt the rest of what an FTDI chip can do
// (EEPROM programming, I²C, a generic SPI port, or periph's GPIO/driver
// registries) — those are not reachable from any fpgaflash cable profile.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
package ftdi
