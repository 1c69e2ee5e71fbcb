//go:build (darwin || linux) && !noh264

// Shared utilities for purego-based codec implementations.

package openh264

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// cObject is a pointer to a C++ interface object: its first word points to
// the vtable of function pointers.
type cObject uintptr

// vtableSize bounds the slots addressable through fn.
const vtableSize = 16

// fn returns the function pointer in vtable slot i.
func (o cObject) fn(i int) uintptr {
	vtbl := ***(***[vtableSize]uintptr)(unsafe.Pointer(&o))
	return vtbl[i]
}

// call invokes vtable slot i with the object as the implicit first argument
// and returns the C int result.
func (o cObject) call(i int, args ...uintptr) int32 {
	r1, _, _ := purego.SyscallN(o.fn(i), append([]uintptr{uintptr(o)}, args...)...)
	return int32(r1)
}

// findSourceRoot returns the directory of this source file. It only resolves
// when the binary runs on the machine it was built on (tests, go run).
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(file)
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
