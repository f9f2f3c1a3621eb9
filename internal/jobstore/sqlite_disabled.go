//go:build !sqlite
// +build !sqlite

package jobstore

import (
	"errors"

	logx "relaybot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite jobstore not built: build with -tags sqlite")
}
