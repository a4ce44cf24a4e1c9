package license_test

import (
	"fmt"
	"log/slog"
)

func fmtAny(v any) string {
	if attrs, ok := v.([]slog.Attr); ok {
		s := ""
		for _, a := range attrs {
			s += a.Key + "=" + a.Value.String() + " "
		}
		return s
	}
	return fmt.Sprint(v)
}
