//go:build !unix && !windows

package lockfile

import "os"

// Advisory locks are unavailable here; every acquire succeeds.
func flockExclusiveNonBlock(*os.File) error { return nil }

func flockUnlock(*os.File) error { return nil }
