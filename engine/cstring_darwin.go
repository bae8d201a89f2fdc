//go:build darwin && cgo

package engine

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"strings"
	"unsafe"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// adoptBytes copies an engine-owned buffer into host memory and frees the
// foreign allocation. Each call site owns its pointer uniquely; adopting the
// same pointer twice is a use-after-free by construction. nil adopts to nil.
func adoptBytes(p *C.char) []byte {
	if p == nil {
		return nil
	}
	b := C.GoBytes(unsafe.Pointer(p), C.int(C.strlen(p)))
	C.free(unsafe.Pointer(p))
	return b
}

// adoptString adopts p as lenient UTF-8 text. nil adopts to "".
func adoptString(p *C.char) string {
	return appleai.LenientString(adoptBytes(p))
}

// lendCString copies s into a NUL-terminated C allocation. The caller owns
// the result and must free it once the foreign side can no longer read it.
// An embedded NUL is unrepresentable and rejected before the copy.
func lendCString(s string) (*C.char, error) {
	if strings.ContainsRune(s, 0) {
		return nil, errors.InvalidPayload("blob contains embedded NUL byte")
	}
	return C.CString(s), nil
}
