package uid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OfflinePrefix marks locally generated placeholder identifiers assigned to
// records created while disconnected. The server never issues ids with this
// prefix, so the two id spaces cannot collide.
const OfflinePrefix = "offline_"

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// NewOffline generates an offline placeholder identifier: millisecond
// timestamp plus a random suffix, unique within the process lifetime and
// never reused.
func NewOffline() string {
	suffix := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("%s%d_%s", OfflinePrefix, time.Now().UnixMilli(), suffix)
}

// IsOffline reports whether id is an offline placeholder identifier.
func IsOffline(id string) bool {
	return strings.HasPrefix(id, OfflinePrefix)
}

// FromServer converts a server-assigned numeric id into its canonical local
// string form.
func FromServer(id int64) string {
	return strconv.FormatInt(id, 10)
}
