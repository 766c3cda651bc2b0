package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StartVerificationMessage]  = (*StartVerificationCommand)(nil)
	_ gocmd.Commander[CancelVerificationMessage] = (*CancelVerificationCommand)(nil)
)
