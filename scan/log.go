package scan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hsilab/pushbroom/motion"
)

var cubeExts = map[string]bool{".fits": true, ".fit": true, ".fts": true, ".mat": true}

// Stem returns destination without trailing separators or a cube file
// extension.  Any other dot is part of the name, so run.2024 and run.2025
// have distinct stems.
func Stem(destination string) string {
	d := strings.TrimRight(destination, `/\`)
	if d == "" {
		return destination
	}
	if ext := filepath.Ext(d); cubeExts[strings.ToLower(ext)] {
		d = strings.TrimSuffix(d, ext)
	}
	return d
}

// LogPath returns the path of the log kept beside a destination,
// <stem>_log.txt
func LogPath(destination string) string {
	return Stem(destination) + "_log.txt"
}

// WriteLog writes the scan record, one bare value per line: steps completed,
// exposure in milliseconds, gain, mode code, direction, destination.
func (r Result) WriteLog(w io.Writer) error {
	s := r.Settings
	_, err := fmt.Fprintf(w, "%d\n%d\n%d\n%d\n%d\n%s\n",
		r.Completed,
		s.Exposure.Milliseconds(),
		s.Gain,
		int(s.Mode),
		int(s.Direction),
		r.Destination)
	return err
}

// WriteLogFile writes the scan record to path, replacing any existing file
func (r Result) WriteLogFile(path string) error {
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	err = r.WriteLog(fid)
	cerr := fid.Close()
	if err == nil {
		err = cerr
	}
	return err
}

// ReadLog parses a record written by WriteLog back into settings
func ReadLog(r io.Reader) (Settings, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() && len(lines) < 6 {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return Settings{}, err
	}
	if len(lines) < 6 {
		return Settings{}, fmt.Errorf("%w: log has %d of 6 lines", ErrBadSettings, len(lines))
	}
	var nums [5]int
	for i := range nums {
		n, err := strconv.Atoi(lines[i])
		if err != nil {
			return Settings{}, fmt.Errorf("%w: log line %d: %v", ErrBadSettings, i+1, err)
		}
		nums[i] = n
	}
	s := Settings{
		Steps:       nums[0],
		Exposure:    time.Duration(nums[1]) * time.Millisecond,
		Gain:        nums[2],
		Mode:        motion.Mode(nums[3]),
		Direction:   motion.Direction(nums[4]),
		Destination: lines[5]}
	return s, s.Validate()
}
