package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("STACKDESK_TEST_MODE") == "" {
			_ = os.Setenv("STACKDESK_TEST_MODE", "1")
		}
	})
}
