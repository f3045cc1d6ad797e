package secrets

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvLoader returns a Loader that reads the given keys from the process
// environment, falling back to the dotenv file at envFile. The file is
// re-read on every load so rotated values are picked up on reload. A
// missing file is not an error; missing keys are omitted.
func EnvLoader(envFile string, keys ...string) Loader {
	return func() (map[string]string, error) {
		fileVals := map[string]string{}
		if envFile != "" {
			read, err := godotenv.Read(envFile)
			switch {
			case err == nil:
				fileVals = read
			case errors.Is(err, os.ErrNotExist):
			default:
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}

		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			} else if v := fileVals[k]; v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
