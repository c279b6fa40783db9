package mesh

import "github.com/sirupsen/logrus"

// Logger is the package-wide diagnostic sink. It defaults to logrus's
// standard logger; callers (notably cmd/meshrun) may replace it with one
// configured for their own output format and verbosity, following the
// teacher's own log.Printf call sites in its RPC worker generalized here to
// structured fields.
var Logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package-wide logger.
func SetLogger(l logrus.FieldLogger) {
	Logger = l
}
