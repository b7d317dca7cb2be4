package bot

import (
	"github.com/ryanuber/go-glob"

	"github.com/dalnet/luna/internal/irc"
)

// matchMask reports whether an IRC prefix matches a nick!user@host glob
// where '*' matches any run of characters. Both sides are compared under
// IRC case folding.
func matchMask(mask, prefix string) bool {
	return glob.Glob(irc.FoldString(mask), irc.FoldString(prefix))
}
