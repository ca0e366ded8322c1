package dfmessages

import "errors"

var (
	errNoComponents = errors.New("dfmessages: trigger decision has no components")
	errBadWindow    = errors.New("dfmessages: component window_begin > window_end")
)
