package irc

// Reply codes the engine reacts to
const (
	RplWelcome          = "001"
	RplISupport         = "005"
	RplChannelModeIs    = "324"
	RplCreationTime     = "329"
	RplTopic            = "332"
	RplTopicWhoTime     = "333"
	RplWhoReply         = "352"
	RplNamReply         = "353"
	RplBanList          = "367"
	RplEndOfMOTD        = "376"
	ErrNoSuchChannel    = "403"
	ErrNoMOTD           = "422"
	ErrErroneusNickname = "432"
	ErrNicknameInUse    = "433"
	ErrPasswdMismatch   = "464"
	ErrYoureBannedCreep = "465"
)
