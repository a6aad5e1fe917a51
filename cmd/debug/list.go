package debug

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var listCmd = &cobra.Command{
	Use:     "list [<file>:<line>]",
	Short:   "查看源码信息",
	Aliases: []string{"l"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			file   string
			lineno uint32
			err    error
		)

		// parse location
		if len(args) != 0 {
			file, lineno, err = parseFileLineno(args[0])
			if err != nil {
				return err
			}
		} else {
			loc, ok := CurrentSession.sess.Location()
			if !ok {
				return fmt.Errorf("list: %w: program is %s, give a location", session.ErrInvalidState, CurrentSession.sess.State())
			}
			file, lineno = loc.Display, loc.LineNum
		}

		// print lines
		return listFileLines(CurrentSession.out, file, int(lineno), 5)
	},
}

// list file lines, lineno is one-based
func listFileLines(w io.Writer, file string, lineno, rng int) error {

	lines, offset, err := listFile(file, lineno, rng)
	if err != nil {
		return fmt.Errorf("list file err: %v", err)
	}

	// use 1-based counter
	idx := offset + 1
	for _, ln := range lines {
		if idx != lineno {
			fmt.Fprintf(w, "%-4s\t%d\t%s\n", "", idx, ln)
		} else {
			fmt.Fprintf(w, "%-4s\t%d\t%s\n", "=>", idx, ln)
		}
		idx++
	}

	return nil
}

func init() {
	debugRootCmd.AddCommand(listCmd)
}

// must be form file:lineno, like test.py:10
func parseFileLineno(s string) (file string, lineno uint32, err error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		err = &session.ParseError{Input: s, Msg: "invalid location, must be file:lineno"}
		return
	}

	file = s[:idx]
	v, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		err = &session.ParseError{Input: s, Msg: "invalid location, must be file:lineno"}
		return
	}
	lineno = uint32(v)
	return
}

// return value `offset` is zero-based counter
func listFile(file string, lineno, rng int) (lines []string, offset int, err error) {
	dat, err := os.ReadFile(file)
	if err != nil {
		err = fmt.Errorf("read file err: %v", err)
		return
	}

	raw := strings.Split(strings.TrimSuffix(string(dat), "\n"), "\n")
	count := len(raw)

	begin := lineno - 1 - rng
	if begin < 0 {
		begin = 0
	}
	if begin > count {
		return
	}

	end := lineno + rng
	if end > count {
		end = count
	}

	return raw[begin:end], begin, nil
}
