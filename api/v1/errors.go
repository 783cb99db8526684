package v1

import "errors"

var (
	ErrAssetCtx    = errors.New("asset missing in context")
	ErrContentType = errors.New("Content-Type must be application/json")
)
