package httpreq

import "github.com/tinoosan/preload/internal/data"

const (
	statusNone         = 0
	statusOK           = 200
	statusEmpty        = 204
	statusIEEmptyBug   = 1223
	statusTypeOK       = 2
	statusTypeDivision = 100
)

// effectiveStatus applies the browser compatibility quirks of the request
// strategy: status 0 with a body (file:// and some embedded web views) is
// success, and the legacy 1223 code stands for 204.
func effectiveStatus(code int, bodyLen int, kind data.ResponseKind) int {
	if code == statusNone && (bodyLen > 0 || kind == data.ResponseBuffer) {
		code = statusOK
	}
	if code == statusIEEmptyBug {
		code = statusEmpty
	}
	return code
}

func statusIsOK(code int) bool {
	return code/statusTypeDivision == statusTypeOK
}
