// Package svf plays back Serial Vector Format test scripts against a JTAG
// chain. SVF is consumed only; this module never produces it. Grounded on
// original_source/src/svf_jtag.cpp's split_str/parse_XYR/parse_runtest/
// handle_instruction and the fsm_state table from svf_jtag.hpp.
package svf

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
	"github.com/fpgaflash/fpgaflash/internal/jtag"
)

// Player is the subset of jtag.Chain's API a script drives. *jtag.Chain
// satisfies it directly.
type Player interface {
	ShiftIR(ctx context.Context, tdiBits []byte, nbits int, endState jtag.State) error
	ShiftDR(ctx context.Context, tdi, rdo []byte, nbits int, endState jtag.State) error
	SetState(ctx context.Context, target jtag.State) error
	GoTestLogicReset(ctx context.Context) error
	ShiftRaw(ctx context.Context, tdi, tms, tdo []byte, nbits int) error
}

var fsmState = map[string]jtag.State{
	"RESET":     jtag.TestLogicReset,
	"IDLE":      jtag.RunTestIdle,
	"DRSELECT":  jtag.SelectDRScan,
	"DRCAPTURE": jtag.CaptureDR,
	"DRSHIFT":   jtag.ShiftDR,
	"DREXIT1":   jtag.Exit1DR,
	"DRPAUSE":   jtag.PauseDR,
	"DREXIT2":   jtag.Exit2DR,
	"DRUPDATE":  jtag.UpdateDR,
	"IRSELECT":  jtag.SelectIRScan,
	"IRCAPTURE": jtag.CaptureIR,
	"IRSHIFT":   jtag.ShiftIR,
	"IREXIT1":   jtag.Exit1IR,
	"IRPAUSE":   jtag.PauseIR,
	"IREXIT2":   jtag.Exit2IR,
	"IRUPDATE":  jtag.UpdateIR,
}

// xyr holds one HIR/HDR/SIR/SDR/TIR/TDR clause's accumulated fields; a
// clause with an omitted TDI/MASK/SMASK inherits the previous value for
// that register, matching parse_XYR's memorization behavior.
type xyr struct {
	len         int
	tdo, tdi    string
	mask, smask string
}

// Interpreter holds the state a script accumulates across statements:
// remembered HIR/HDR/SIR/SDR/TIR/TDR clauses and the ENDIR/ENDDR targets.
type Interpreter struct {
	player Player

	enddr, endir       jtag.State
	runState, endState jtag.State

	hir, hdr, sir, sdr, tir, tdr xyr
}

// NewInterpreter returns an interpreter that drives player, starting from
// TEST_LOGIC_RESET as svf_jtag's constructor does.
func NewInterpreter(ctx context.Context, player Player) (*Interpreter, error) {
	it := &Interpreter{
		player:   player,
		enddr:    jtag.RunTestIdle,
		endir:    jtag.RunTestIdle,
		runState: jtag.RunTestIdle,
		endState: jtag.RunTestIdle,
	}
	if err := player.GoTestLogicReset(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

// Play reads and executes every statement in an SVF script.
func (it *Interpreter) Play(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)

	var pending []string
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" || line[0] == '!' {
			continue
		}
		complete := false
		if strings.HasSuffix(line, ";") {
			line = line[:len(line)-1]
			complete = true
		}
		line = strings.Map(func(r rune) rune {
			if r == '\t' {
				return ' '
			}
			return r
		}, line)
		pending = append(pending, splitFields(line)...)
		if !complete {
			continue
		}
		if len(pending) == 0 {
			continue
		}
		if err := it.handle(ctx, pending); err != nil {
			return fmt.Errorf("svf: line %d: %w", lineno, err)
		}
		pending = nil
	}
	if err := sc.Err(); err != nil {
		return fpgaerr.New(fpgaerr.KindParse, "svf: scan", err)
	}
	return nil
}

func splitFields(line string) []string {
	var out []string
	for _, f := range strings.Split(line, " ") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (it *Interpreter) handle(ctx context.Context, vstr []string) error {
	switch strings.ToUpper(vstr[0]) {
	case "FREQUENCY", "TRST":
		// No clock-rate or reset-line control in this transport; accepted
		// and ignored, matching the original's best-effort handling.
	case "ENDDR":
		s, err := lookupState(vstr[1])
		if err != nil {
			return err
		}
		it.enddr = s
	case "ENDIR":
		s, err := lookupState(vstr[1])
		if err != nil {
			return err
		}
		it.endir = s
	case "STATE":
		s, err := lookupState(vstr[1])
		if err != nil {
			return err
		}
		return it.player.SetState(ctx, s)
	case "RUNTEST":
		return it.runtest(ctx, vstr)
	case "HIR":
		return parseXYR(vstr, &it.hir, nil)
	case "HDR":
		return parseXYR(vstr, &it.hdr, nil)
	case "TIR":
		return parseXYR(vstr, &it.tir, nil)
	case "TDR":
		return parseXYR(vstr, &it.tdr, nil)
	case "SIR":
		return parseXYR(vstr, &it.sir, func(t *xyr) error { return it.shift(ctx, true, t) })
	case "SDR":
		return parseXYR(vstr, &it.sdr, func(t *xyr) error { return it.shift(ctx, false, t) })
	default:
		return fpgaerr.New(fpgaerr.KindParse, "svf: unhandled instruction "+vstr[0], nil)
	}
	return nil
}

func lookupState(name string) (jtag.State, error) {
	s, ok := fsmState[strings.ToUpper(name)]
	if !ok {
		return 0, fpgaerr.New(fpgaerr.KindParse, "svf: unknown state "+name, nil)
	}
	return s, nil
}

// parseXYR fills t from an HIR/HDR/SIR/SDR/TIR/TDR clause, clearing
// remembered fields whenever the bit length changes, and invokes shift
// (SIR/SDR only) once the clause is fully parsed.
func parseXYR(vstr []string, t *xyr, shift func(*xyr) error) error {
	if len(vstr) < 2 {
		return fpgaerr.New(fpgaerr.KindParse, "svf: malformed "+vstr[0]+" clause", nil)
	}
	n, err := strconv.Atoi(vstr[1])
	if err != nil {
		return fpgaerr.New(fpgaerr.KindParse, "svf: "+vstr[0]+" length", err)
	}
	if n != t.len {
		*t = xyr{}
	}
	t.len = n
	t.tdo = ""
	if t.len == 0 {
		if shift != nil {
			return shift(t)
		}
		return nil
	}

	mode := 0
	var field strings.Builder
	for _, s := range vstr[2:] {
		switch s {
		case "TDO":
			mode = 1
			continue
		case "TDI":
			mode = 2
			continue
		case "MASK":
			mode = 3
			continue
		case "SMASK":
			mode = 4
			continue
		}
		s = strings.TrimPrefix(s, "(")
		closed := strings.HasSuffix(s, ")")
		s = strings.TrimSuffix(s, ")")
		field.WriteString(s)
		if closed {
			val := field.String()
			field.Reset()
			switch mode {
			case 1:
				t.tdo = val
			case 2:
				t.tdi = val
			case 3:
				t.mask = val
			case 4:
				t.smask = val
			}
		}
	}
	if shift != nil {
		return shift(t)
	}
	return nil
}

// shift converts t's hex fields to a byte buffer and performs the JTAG
// transaction, verifying TDO against mask/expected if present.
func (it *Interpreter) shift(ctx context.Context, isIR bool, t *xyr) error {
	byteLen := (t.len + 7) / 8
	tdi, err := parseHex(t.tdi, byteLen, false)
	if err != nil {
		return err
	}
	if t.smask != "" {
		smask, err := parseHex(t.smask, byteLen, false)
		if err != nil {
			return err
		}
		for i := range tdi {
			tdi[i] &= smask[i]
		}
	}

	var rdo []byte
	if t.tdo != "" {
		rdo = make([]byte, byteLen)
	}

	if isIR {
		end := it.endir
		if err := it.player.ShiftIR(ctx, tdi, t.len, end); err != nil {
			return err
		}
	} else {
		end := it.enddr
		if err := it.player.ShiftDR(ctx, tdi, rdo, t.len, end); err != nil {
			return err
		}
	}

	if t.tdo != "" && rdo != nil {
		tdo, err := parseHex(t.tdo, byteLen, false)
		if err != nil {
			return err
		}
		mask, err := parseHex(t.mask, byteLen, t.mask == "")
		if err != nil {
			return err
		}
		for i := range rdo {
			if (rdo[i]^tdo[i])&mask[i] != 0 {
				return fpgaerr.New(fpgaerr.KindVerifyMismatch,
					fmt.Sprintf("svf: TDO mismatch, expected %x", tdo), nil)
			}
		}
	}
	return nil
}

// parseHex mirrors parse_hex: it reads a hex string right-to-left into
// byteLen bytes, filling missing leading nibbles with 0xf when
// defaultOnes is set or 0x0 otherwise.
func parseHex(in string, byteLen int, defaultOnes bool) ([]byte, error) {
	out := make([]byte, byteLen)
	lastIter := len(in) - 2*byteLen
	pos := 0
	for i := len(in) - 1; i >= lastIter; i-- {
		var nibble byte
		if i < 0 {
			if defaultOnes {
				nibble = 0x0f
			}
		} else {
			c := in[i]
			switch {
			case c >= '0' && c <= '9':
				nibble = c - '0'
			case c >= 'A' && c <= 'F':
				nibble = c - 'A' + 10
			case c >= 'a' && c <= 'f':
				nibble = c - 'a' + 10
			default:
				return nil, fpgaerr.New(fpgaerr.KindParse, "svf: invalid hex digit", nil)
			}
		}
		if pos%2 == 0 {
			out[pos/2] = nibble
		} else {
			out[pos/2] |= nibble << 4
		}
		pos++
	}
	return out, nil
}

func (it *Interpreter) runtest(ctx context.Context, vstr []string) error {
	pos := 1
	nbIter := 0
	runState := jtag.State(-1)
	endState := jtag.State(-1)

	if pos < len(vstr) && isAlpha(vstr[pos]) {
		s, err := lookupState(vstr[pos])
		if err != nil {
			return err
		}
		runState = s
		pos++
	}
	if pos+1 < len(vstr) && strings.EqualFold(vstr[pos+1], "SEC") {
		pos += 2
	} else if pos < len(vstr) {
		n, err := strconv.Atoi(vstr[pos])
		if err != nil {
			return fpgaerr.New(fpgaerr.KindParse, "svf: RUNTEST iteration count", err)
		}
		nbIter = n
		pos += 2 // skip count and run_clk
		if pos+1 < len(vstr) && strings.EqualFold(vstr[pos+1], "SEC") {
			pos += 2
		}
	}
	for i := pos; i < len(vstr); i++ {
		if strings.EqualFold(vstr[i], "ENDSTATE") && i+1 < len(vstr) {
			s, err := lookupState(vstr[i+1])
			if err != nil {
				return err
			}
			endState = s
			break
		}
	}

	if runState != -1 {
		it.runState = runState
	}
	if endState != -1 {
		it.endState = endState
	} else if runState != -1 {
		it.endState = it.runState
	}

	if err := it.player.SetState(ctx, it.runState); err != nil {
		return err
	}
	if nbIter > 0 {
		n := (nbIter + 7) / 8 * 8
		buf := make([]byte, n/8)
		if err := it.player.ShiftRaw(ctx, buf, buf, nil, nbIter); err != nil {
			return err
		}
	}
	return it.player.SetState(ctx, it.endState)
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
