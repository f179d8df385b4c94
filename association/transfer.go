package association

import "fmt"

// Phase is the response sub-state of a block transfer.
type Phase byte

const (
	PhaseStart Phase = iota
	PhaseSending
	PhaseNextLoop
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseSending:
		return "sending"
	case PhaseNextLoop:
		return "next-loop"
	case PhaseEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Transfer tracks one long GET. A loop is one call of the database, e.g. one entry of the
// object list; the loop total is fixed when the transfer begins.
type Transfer struct {
	phase Phase
	block uint32
	loop  int
	loops int
}

func (t *Transfer) Phase() Phase {
	return t.phase
}

// Block is the number of the last block sent, blocks are numbered from 1.
func (t *Transfer) Block() uint32 {
	return t.block
}

func (t *Transfer) Loop() int {
	return t.loop
}

func (t *Transfer) Loops() int {
	return t.loops
}

// LastLoop reports whether the current loop is the final one.
func (t *Transfer) LastLoop() bool {
	return t.loop+1 >= t.loops
}

func (t *Transfer) move(from Phase, to Phase) error {
	if t.phase != from {
		return fmt.Errorf("%w: block transfer %s -> %s requested in %s", ErrState, from, to, t.phase)
	}
	t.phase = to
	return nil
}

// Begin starts a transfer of loops database calls.
func (t *Transfer) Begin(loops int) error {
	if loops < 1 {
		loops = 1
	}
	if err := t.move(PhaseStart, PhaseSending); err != nil {
		return err
	}
	t.block = 0
	t.loop = 0
	t.loops = loops
	return nil
}

// Sent accounts one more block and returns its number.
func (t *Transfer) Sent() (uint32, error) {
	if t.phase != PhaseSending {
		return 0, fmt.Errorf("%w: block sent in %s", ErrState, t.phase)
	}
	t.block++
	return t.block, nil
}

// Advance leaves an exhausted loop, the next block needs a new database call.
func (t *Transfer) Advance() error {
	if t.LastLoop() {
		return fmt.Errorf("%w: loop %d of %d", ErrState, t.loop+1, t.loops)
	}
	if err := t.move(PhaseSending, PhaseNextLoop); err != nil {
		return err
	}
	t.loop++
	return nil
}

func (t *Transfer) Resume() error {
	return t.move(PhaseNextLoop, PhaseSending)
}

func (t *Transfer) Finish() error {
	return t.move(PhaseSending, PhaseEnd)
}

// Reset aborts or closes whatever was in progress.
func (t *Transfer) Reset() {
	*t = Transfer{}
}
