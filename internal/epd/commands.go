package epd

import (
	"fmt"
	"time"
)

// Target selects which controller(s) a command is addressed to.
type Target uint8

const (
	Controller0 Target = iota
	Controller1
	Both
)

func (t Target) String() string {
	switch t {
	case Controller0:
		return "cs0"
	case Controller1:
		return "cs1"
	case Both:
		return "both"
	}
	return fmt.Sprintf("Target(%d)", uint8(t))
}

// lines returns the chip select lines asserted for t.
func (t Target) lines() ([]Line, error) {
	switch t {
	case Controller0:
		return []Line{LineCS0}, nil
	case Controller1:
		return []Line{LineCS1}, nil
	case Both:
		return []Line{LineCS0, LineCS1}, nil
	}
	return nil, fmt.Errorf("epd: unknown target %d", uint8(t))
}

// EL133UF1 command set.
const (
	CmdPSR            byte = 0x00 // panel setting
	CmdPWR            byte = 0x01 // power setting
	CmdPOF            byte = 0x02 // power off
	CmdPON            byte = 0x04 // power on
	CmdBTSTN          byte = 0x05 // booster soft start VDDN
	CmdBTSTP          byte = 0x06 // booster soft start VDDP
	CmdDTM            byte = 0x10 // data transmission
	CmdDRF            byte = 0x12 // display refresh
	CmdPLL            byte = 0x30 // PLL control
	CmdCDI            byte = 0x50 // VCOM and data interval
	CmdTCON           byte = 0x60 // TCON setting
	CmdTRES           byte = 0x61 // resolution setting
	CmdANTM           byte = 0x74 // analog block control
	CmdAGID           byte = 0x86 // gate ID
	CmdBuckBoostVDDN  byte = 0xB0
	CmdTFTVCOMPower   byte = 0xB1
	CmdEnableBuffer   byte = 0xB6
	CmdBoostVDDPEn    byte = 0xB7
	CmdCCSET          byte = 0xE0 // cascade setting
	CmdPWS            byte = 0xE3 // power saving
	CmdCMD66          byte = 0xF0
	cmdRefreshPayload byte = 0x00
)

// Busy-wait budgets for each phase of the protocol.
const (
	InitBusyTimeout     = 300 * time.Millisecond
	PowerOnBusyTimeout  = 200 * time.Millisecond
	RefreshBusyTimeout  = 32 * time.Second
	PowerOffBusyTimeout = 200 * time.Millisecond
)

// Command is one addressed controller command with its payload.
type Command struct {
	Target  Target
	ID      byte
	Payload []byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s:0x%02X[%d]", c.Target, c.ID, len(c.Payload))
}

// initSequence is the vendor power/timing/resolution configuration, issued
// strictly in this order after a reset.
var initSequence = []Command{
	{Controller0, CmdANTM, []byte{0xC0, 0x1C, 0x1C, 0xCC, 0xCC, 0xCC, 0x15, 0x15, 0x55}},
	{Both, CmdCMD66, []byte{0x49, 0x55, 0x13, 0x5D, 0x05, 0x10}},
	{Both, CmdPSR, []byte{0xDF, 0x69}},
	{Both, CmdPLL, []byte{0x08}},
	{Both, CmdCDI, []byte{0xF7}},
	{Both, CmdTCON, []byte{0x03, 0x03}},
	{Both, CmdAGID, []byte{0x10}},
	{Both, CmdPWS, []byte{0x22}},
	{Both, CmdCCSET, []byte{0x01}},
	{Both, CmdTRES, []byte{0x04, 0xB0, 0x03, 0x20}},
	{Controller0, CmdPWR, []byte{0x0F, 0x00, 0x28, 0x2C, 0x28, 0x38}},
	{Controller0, CmdEnableBuffer, []byte{0x07}},
	{Controller0, CmdBTSTP, []byte{0xD8, 0x18}},
	{Controller0, CmdBoostVDDPEn, []byte{0x01}},
	{Controller0, CmdBTSTN, []byte{0xD8, 0x18}},
	{Controller0, CmdBuckBoostVDDN, []byte{0x01}},
	{Controller0, CmdTFTVCOMPower, []byte{0x02}},
}

// InitSequence returns a copy of the default initialization table.
func InitSequence() []Command {
	out := make([]Command, len(initSequence))
	for i, c := range initSequence {
		out[i] = Command{Target: c.Target, ID: c.ID, Payload: append([]byte(nil), c.Payload...)}
	}
	return out
}
