package kvguard

import "github.com/anishathalye/porcupine"

// The porcupine model of one key: a register holding (opID, value),
// written by an unconditional seed put and by CAS attempts that only
// apply when the expected prior write still holds.

type registerInput struct {
	read  bool
	seed  bool
	prev  string
	opID  string
	value string
}

type registerOutput struct {
	ok    bool // cas: whether this attempt installed its value
	opID  string
	value string
}

type registerState struct {
	opID  string
	value string
}

var registerModel = porcupine.Model{
	Init: func() interface{} {
		return registerState{}
	},
	Step: func(state, input, output interface{}) (bool, interface{}) {
		st := state.(registerState)
		in := input.(registerInput)
		out := output.(registerOutput)
		switch {
		case in.read:
			return st.opID == out.opID && st.value == out.value, st
		case in.seed:
			return true, registerState{opID: in.opID, value: in.value}
		default:
			// only applied cas attempts reach the model; each must
			// linearize at a point where its expected prior still holds
			if st.opID == in.prev {
				return out.ok, registerState{opID: in.opID, value: in.value}
			}
			return false, st
		}
	},
	Equal: func(a, b interface{}) bool {
		return a == b
	},
}
