package methodcall

import (
	"fmt"

	"github.com/aracom/lola/lola"
)

// Binding is the minimal contract a proxy method binding exposes to the
// zero-copy call operator: dispatch the call already packed at
// queuePos, possibly blocking on the message-passing transport.
type Binding interface {
	DoCall(queuePos int) error
}

// CallZeroCopy is the zero-copy call operator variant.
// Every in-arg pointer passed via inArgs must share a common queue
// position; a mismatch is a precondition violation and aborts the
// process, matching the binding's own "argument pointers from different
// queue positions" precondition-violation kind. It allocates
// the return slot, dispatches to binding.DoCall, and yields a ReturnPtr
// referencing the return slot.
func CallZeroCopy[R any](queue *Queue, binding Binding, returnLayout Layout, returnBuf []byte, inArgs []interface{ Pos() int }) (*ReturnPtr[R], error) {
	pos := 0

	if len(inArgs) > 0 {
		pos = inArgs[0].Pos()

		for _, arg := range inArgs[1:] {
			if arg.Pos() != pos {
				lola.Abortf(nil, "methodcall: in-arg pointers from different queue positions")
			}
		}
	}

	queue.setReturnActive(pos, true)

	if err := binding.DoCall(pos); err != nil {
		queue.setReturnActive(pos, false)
		return nil, fmt.Errorf("methodcall: do_call: %w", err)
	}

	ptr := UnpackPtr[R](returnLayout, returnBuf, 0)

	return newReturnPtr[R](queue, pos, ptr), nil
}

// CallCopying is the copying call operator variant: internally allocate a
// queue slot, copy args into its in-arg buffer, then invoke the
// zero-copy form.
func CallCopying[R any](queue *Queue, binding Binding, inLayout Layout, returnLayout Layout, args []any) (*ReturnPtr[R], func(), error) {
	pos, err := queue.Acquire()
	if err != nil {
		return nil, func() {}, err
	}

	inBuf := make([]byte, inLayout.Size)
	if err := inLayout.Pack(inBuf, args); err != nil {
		return nil, func() {}, err
	}

	inPtrs := make([]interface{ Pos() int }, len(args))

	for i := range args {
		inPtrs[i] = &posOnly{pos: pos}
	}

	release := func() {
		for i := range args {
			queue.setInArgActive(pos, i, false)
		}
	}

	for i := range args {
		queue.setInArgActive(pos, i, true)
	}

	returnBuf := make([]byte, returnLayout.Size)

	ret, err := CallZeroCopy[R](queue, binding, returnLayout, returnBuf, inPtrs)
	if err != nil {
		release()
		return nil, func() {}, err
	}

	return ret, release, nil
}

type posOnly struct{ pos int }

func (p *posOnly) Pos() int { return p.pos }
