package library

import (
	"os"
)

// Touch creates the file at the given path if it does not exist.
func Touch(path string) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			LogCLI(err.Error(), 0)
			return
		}
		f.Close()
	}
}
