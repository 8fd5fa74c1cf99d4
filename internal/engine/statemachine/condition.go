// Package statemachine evaluates data-driven state machines whose
// definitions are authored externally and cached in content registries.
package statemachine

// Condition is a closed set of transition triggers. The evaluator switches
// exhaustively over these types; adding a variant means updating Eval.
type Condition interface {
	cond()
}

// Flag fires when a named boolean flag has the given value. An absent flag
// reads as false.
type Flag struct {
	Name  string
	Value bool
}

// Threshold fires when a named numeric value compares against a constant.
// An absent value reads as 0.
type Threshold struct {
	Name  string
	Op    CompareOp
	Value float64
}

// After fires once the instance has spent at least Seconds in its current
// state.
type After struct {
	Seconds float64
}

// And fires when both operands fire.
type And struct {
	A Condition
	B Condition
}

// Or fires when either operand fires.
type Or struct {
	A Condition
	B Condition
}

// Not inverts its operand.
type Not struct {
	C Condition
}

func (Flag) cond()      {}
func (Threshold) cond() {}
func (After) cond()     {}
func (And) cond()       {}
func (Or) cond()        {}
func (Not) cond()       {}

// CompareOp is a threshold comparison operator.
type CompareOp string

const (
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
	OpEqual        CompareOp = "=="
)

// ValidOp reports whether op is one of the supported comparison operators.
func ValidOp(op CompareOp) bool {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

func (op CompareOp) eval(left, right float64) bool {
	switch op {
	case OpLess:
		return left < right
	case OpLessEqual:
		return left <= right
	case OpGreater:
		return left > right
	case OpGreaterEqual:
		return left >= right
	case OpEqual:
		return left == right
	}
	return false
}

// Eval evaluates a condition against an instance context. Evaluation is
// pure: it reads flags, values, and time in state, and touches nothing.
func Eval(c Condition, ctx *Context) bool {
	switch c := c.(type) {
	case Flag:
		return ctx.Flag(c.Name) == c.Value
	case Threshold:
		return c.Op.eval(ctx.Value(c.Name), c.Value)
	case After:
		return ctx.TimeInState >= c.Seconds
	case And:
		return Eval(c.A, ctx) && Eval(c.B, ctx)
	case Or:
		return Eval(c.A, ctx) || Eval(c.B, ctx)
	case Not:
		return !Eval(c.C, ctx)
	}
	return false
}
