package extensions

import (
	"github.com/google/uuid"
)

// HookPoint identifies one of the six bet lifecycle notification points.
type HookPoint int

const (
	BeforeBet HookPoint = iota
	AfterBet
	BeforeFinalize
	AfterFinalize
	BeforeCancel
	AfterCancel
)

func (p HookPoint) String() string {
	switch p {
	case BeforeBet:
		return "before_bet"
	case AfterBet:
		return "after_bet"
	case BeforeFinalize:
		return "before_finalize"
	case AfterFinalize:
		return "after_finalize"
	case BeforeCancel:
		return "before_cancel"
	case AfterCancel:
		return "after_cancel"
	default:
		return "unknown"
	}
}

// Context carries the bet details handed to every hook.
type Context struct {
	HouseID uuid.UUID
	BetID   uint64
	Player  string
	Amount  int64
	Side    int
}

// Extension observes the bet lifecycle. "Before" hooks may return an
// error to veto the transition when the dispatcher treats that hook
// point as abortable; "after" hooks are notifications only.
type Extension interface {
	Name() string
	OnBeforeBet(ctx Context) error
	OnAfterBet(ctx Context)
	OnBeforeFinalize(ctx Context) error
	OnAfterFinalize(ctx Context)
	OnBeforeCancel(ctx Context) error
	OnAfterCancel(ctx Context)
}

// Noop is an embeddable Extension that ignores every hook. Concrete
// extensions embed it and override the hooks they care about.
type Noop struct{}

func (Noop) OnBeforeBet(Context) error      { return nil }
func (Noop) OnAfterBet(Context)             {}
func (Noop) OnBeforeFinalize(Context) error { return nil }
func (Noop) OnAfterFinalize(Context)        {}
func (Noop) OnBeforeCancel(Context) error   { return nil }
func (Noop) OnAfterCancel(Context)          {}
