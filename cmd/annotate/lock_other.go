//go:build !unix

package main

import (
	"errors"
	"os"
	"time"
)

// lockFile creates path+".lock" exclusively and removes it on unlock. A lock
// file left behind by a killed process has to be removed by hand.
func lockFile(path string) (func(), error) {
	name := path + lockSuffix
	for {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(name) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}
