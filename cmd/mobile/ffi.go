//go:build cgo

// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libtourly.so (Android) / tourly.framework (iOS)
//
// Every call takes and returns JSON. Returned strings must be released with
// FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// TourlyInit opens, migrates and arms the core. configJSON may be empty.
//
//export TourlyInit
func TourlyInit(configJSON *C.char) *C.char {
	return C.CString(initCore(C.GoString(configJSON)))
}

// TourlyClose stops background sync and closes the store.
//
//export TourlyClose
func TourlyClose() {
	closeCore()
}

// TourlySetOnline reports network reachability; non-zero means online.
//
//export TourlySetOnline
func TourlySetOnline(online int32) {
	setOnline(online != 0)
}

// TourlyCall runs a bridge method such as "itineraries.create".
//
//export TourlyCall
func TourlyCall(method, argsJSON *C.char) *C.char {
	return C.CString(call(C.GoString(method), C.GoString(argsJSON)))
}

// TourlyDescribe returns the version and the supported methods.
//
//export TourlyDescribe
func TourlyDescribe() *C.char {
	return C.CString(describe())
}

// FreeString frees a string allocated by Go.
//
//export FreeString
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
