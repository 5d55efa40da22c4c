package main

import "os"

// envOrDefault reads key from the environment, falling back to
// defaultKey when key is empty (no explicit override configured).
func envOrDefault(key, defaultKey string) string {
	if key == "" {
		key = defaultKey
	}
	return os.Getenv(key)
}
