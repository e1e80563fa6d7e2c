package server

// Predefined command groups for use with WithDisableCommands.
//
//	// Read-only server
//	srv, _ := server.NewServer(":5000",
//	    server.WithDriver(driver),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
var (
	// LegacyCommands contains the X* variants from RFC 775.
	LegacyCommands = []string{"XCWD", "XCUP", "XPWD", "XMKD", "XRMD"}

	// ActiveModeCommands contains the commands that make the server dial
	// out to the client.
	ActiveModeCommands = []string{"PORT", "EPRT"}

	// WriteCommands contains all commands that modify the filesystem.
	//
	// For per-user read-only access, have the FSDriver's authenticator
	// return readOnly=true instead.
	WriteCommands = []string{
		"STOR", "APPE", "STOU",
		"DELE", "RMD", "XRMD", "MKD", "XMKD",
		"RNFR", "RNTO", "MFMT",
	}

	// SiteCommands contains SITE administrative commands.
	SiteCommands = []string{"SITE"}
)

// commandSpec describes how the interpreter runs a verb.
type commandSpec struct {
	handle func(*session, string)

	// auth is set for verbs that need a logged-in user.
	auth bool
}

// commands is the dispatch table. There is no TLS, so AUTH, PROT and PBSZ
// fall through to 502.
var commands = map[string]commandSpec{
	// Access control
	"USER": {handle: (*session).handleUSER},
	"PASS": {handle: (*session).handlePASS},
	"ACCT": {handle: (*session).handleACCT},
	"HOST": {handle: (*session).handleHOST},
	"QUIT": {handle: (*session).handleQUIT},
	"NOOP": {handle: (*session).handleNOOP},

	// File management
	"CWD":  {handle: (*session).handleCWD, auth: true},
	"XCWD": {handle: (*session).handleCWD, auth: true},
	"CDUP": {handle: (*session).handleCDUP, auth: true},
	"XCUP": {handle: (*session).handleCDUP, auth: true},
	"PWD":  {handle: (*session).handlePWD, auth: true},
	"XPWD": {handle: (*session).handlePWD, auth: true},
	"MKD":  {handle: (*session).handleMKD, auth: true},
	"XMKD": {handle: (*session).handleMKD, auth: true},
	"RMD":  {handle: (*session).handleRMD, auth: true},
	"XRMD": {handle: (*session).handleRMD, auth: true},
	"DELE": {handle: (*session).handleDELE, auth: true},
	"RNFR": {handle: (*session).handleRNFR, auth: true},
	"RNTO": {handle: (*session).handleRNTO, auth: true},

	// Transfer parameters
	"TYPE": {handle: (*session).handleTYPE, auth: true},
	"MODE": {handle: (*session).handleMODE, auth: true},
	"STRU": {handle: (*session).handleSTRU, auth: true},
	"ALLO": {handle: (*session).handleALLO, auth: true},
	"PORT": {handle: (*session).handlePORT, auth: true},
	"EPRT": {handle: (*session).handleEPRT, auth: true},
	"PASV": {handle: (*session).handlePASV, auth: true},
	"EPSV": {handle: (*session).handleEPSV, auth: true},
	"REST": {handle: (*session).handleREST, auth: true},

	// Transfers
	"RETR": {handle: (*session).handleRETR, auth: true},
	"STOR": {handle: (*session).handleSTOR, auth: true},
	"APPE": {handle: (*session).handleAPPE, auth: true},
	"STOU": {handle: (*session).handleSTOU, auth: true},
	"LIST": {handle: (*session).handleLIST, auth: true},
	"NLST": {handle: (*session).handleNLST, auth: true},
	"MLSD": {handle: (*session).handleMLSD, auth: true},
	"ABOR": {handle: (*session).handleABOR},

	// Information
	"SIZE": {handle: (*session).handleSIZE, auth: true},
	"MDTM": {handle: (*session).handleMDTM, auth: true},
	"MLST": {handle: (*session).handleMLST, auth: true},
	"HASH": {handle: (*session).handleHASH, auth: true},
	"MFMT": {handle: (*session).handleMFMT, auth: true},
	"FEAT": {handle: (*session).handleFEAT},
	"OPTS": {handle: (*session).handleOPTS},
	"SYST": {handle: (*session).handleSYST},
	"STAT": {handle: (*session).handleSTAT},
	"HELP": {handle: (*session).handleHELP},
	"SITE": {handle: (*session).handleSITE, auth: true},
}

// busyCommands are the verbs accepted while a transfer is running.
var busyCommands = map[string]bool{
	"ABOR": true,
	"STAT": true,
	"QUIT": true,
	"NOOP": true,
}

// helpLines is the body of the HELP reply.
var helpLines = []string{
	"USER PASS ACCT HOST QUIT NOOP",
	"CWD XCWD CDUP XCUP PWD XPWD",
	"MKD XMKD RMD XRMD DELE RNFR RNTO",
	"TYPE MODE STRU ALLO PORT EPRT PASV EPSV REST",
	"RETR STOR APPE STOU LIST NLST MLSD ABOR",
	"SIZE MDTM MLST HASH MFMT",
	"FEAT OPTS SYST STAT HELP SITE",
}
