// Package guard flags the process as running under tests when imported.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TOPOCLIMB_TEST_MODE") == "" {
			_ = os.Setenv("TOPOCLIMB_TEST_MODE", "1")
		}
	})
}
