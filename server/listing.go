package server

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// listFormat selects how directory entries are rendered.
type listFormat int

const (
	listLong  listFormat = iota // LIST
	listNames                   // NLST
	listFacts                   // MLSD
)

// sixMonths is the age after which LIST shows the year instead of the time.
const sixMonths = 182 * 24 * time.Hour

// epoch stands in for modification times when they are not served.
var epoch = time.Unix(0, 0).UTC()

// formatEntry renders one directory entry, CRLF included.
func formatEntry(format listFormat, info os.FileInfo, now time.Time, modTimes bool) string {
	switch format {
	case listNames:
		return info.Name() + "\r\n"
	case listFacts:
		return formatFacts(info, modTimes) + " " + info.Name() + "\r\n"
	default:
		return formatLong(info, now, modTimes) + "\r\n"
	}
}

// formatLong renders an ls -l style line:
//
//	drwxr-xr-x 1 ftp ftp 4096 Jan 02 15:04 name
//	-rw-r--r-- 1 ftp ftp 1234 Jan 02  2006 name
func formatLong(info os.FileInfo, now time.Time, modTimes bool) string {
	mtime := epoch
	if modTimes {
		mtime = info.ModTime()
	}

	var date string
	if age := now.Sub(mtime); age < sixMonths && age > -sixMonths {
		date = mtime.Format("Jan 02 15:04")
	} else {
		date = mtime.Format("Jan 02  2006")
	}

	return fmt.Sprintf("%s 1 ftp ftp %d %s %s",
		permString(info.Mode()), info.Size(), date, info.Name())
}

// permString renders the type and permission bits the way ls does.
func permString(mode os.FileMode) string {
	var b strings.Builder
	switch {
	case mode.IsDir():
		b.WriteByte('d')
	case mode&os.ModeSymlink != 0:
		b.WriteByte('l')
	default:
		b.WriteByte('-')
	}

	const rwx = "rwxrwxrwx"
	perm := mode.Perm()
	for i := 0; i < 9; i++ {
		if perm&(1<<uint(8-i)) != 0 {
			b.WriteByte(rwx[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// formatFacts renders the RFC 3659 facts of an entry, including the
// trailing ';'.
func formatFacts(info os.FileInfo, modTimes bool) string {
	t := "file"
	if info.IsDir() {
		t = "dir"
	}

	facts := fmt.Sprintf("type=%s;size=%d;", t, info.Size())
	if modTimes {
		// RFC 3659 Section 2.3: "Time values are always represented in UTC"
		facts += "modify=" + info.ModTime().UTC().Format("20060102150405") + ";"
	}
	facts += fmt.Sprintf("UNIX.mode=%04o;", info.Mode().Perm())
	return facts
}

// factNames is the MLST line of the FEAT reply.
func factNames(modTimes bool) string {
	if modTimes {
		return "MLST type*;size*;modify*;UNIX.mode*;"
	}
	return "MLST type*;size*;UNIX.mode*;"
}
