package main

import (
	"time"
)

type config struct {
	help    bool
	version bool

	server  string // Console address of the target agent
	timeout time.Duration
}
