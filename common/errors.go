package common

// ConstError is an error type that can be used to define immutable error
// constants, usable in switch statements and errors.Is checks.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}
