//go:build mdbx

package store

import (
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/mdbx"
)

func init() {
	extraBackends = append(extraBackends, func() db.Backend {
		return mdbx.NewBackend(nil)
	})
}
