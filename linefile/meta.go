package linefile

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// metaSink is one registered destination for comment lines.
type metaSink struct {
	w      io.Writer
	unique bool
}

// AddMetaOutput registers a sink that gets a copy of every comment line
// (lines starting with '#') as it is consumed. With unique set, a comment
// line identical to one already emitted this session is not repeated to that
// sink.
func (lf *LineFile) AddMetaOutput(w io.Writer, unique bool) {
	lf.meta = append(lf.meta, metaSink{w: w, unique: unique})
	if unique && lf.metaSeen == nil {
		lf.metaSeen = make(map[string]bool)
	}
}

// metaDataAdd mirrors one comment line to every registered sink. Called on
// every returned comment line, pushed-back ones included.
func (lf *LineFile) metaDataAdd(line []byte) {
	if len(lf.meta) == 0 {
		return
	}

	seen := false
	if lf.metaSeen != nil {
		seen = lf.metaSeen[string(line)]
		lf.metaSeen[string(line)] = true
	}

	for _, sink := range lf.meta {
		if sink.unique && seen {
			continue
		}
		_, err := sink.w.Write(line)
		if err == nil {
			_, err = sink.w.Write([]byte{'\n'})
		}
		if err != nil {
			log.Warnf("%s: dropping comment line on the floor: %v", lf.name, err)
		}
	}
}
