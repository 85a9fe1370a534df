package safety

import (
	"fmt"

	"github.com/samsamfire/gochademo/pkg/session"
)

// Severity of a verdict, ordered
type Level uint8

const (
	LevelSafe   Level = 0
	LevelWarn   Level = 1
	LevelUnsafe Level = 2
)

var levelMap = map[Level]string{
	LevelSafe:   "SAFE",
	LevelWarn:   "WARN",
	LevelUnsafe: "UNSAFE",
}

func (l Level) String() string {
	return levelMap[l]
}

type Verdict struct {
	Level  Level
	Reason session.Reason
	Detail string
}

var Safe = Verdict{Level: LevelSafe}

func warn(reason session.Reason, format string, args ...any) Verdict {
	return Verdict{Level: LevelWarn, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func unsafe(reason session.Reason, format string, args ...any) Verdict {
	return Verdict{Level: LevelUnsafe, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Return the most severe of both verdicts, the receiver wins a tie
func (v Verdict) Worst(other Verdict) Verdict {
	if other.Level > v.Level {
		return other
	}
	return v
}

func (v Verdict) Unsafe() bool {
	return v.Level == LevelUnsafe
}

func (v Verdict) String() string {
	if v.Level == LevelSafe {
		return v.Level.String()
	}
	return fmt.Sprintf("%v %v : %v", v.Level, v.Reason, v.Detail)
}
