package domain

// VoteType - направление голоса.
type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// VoteSummary - авторитетное состояние счетчиков после мутации голоса.
// Читающая сторона не должна вычислять его из устаревших данных.
type VoteSummary struct {
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	UserVote  *VoteType `json:"userVote"`
}

// VoteTransition описывает результат одного перехода голосования:
// новое состояние голоса (nil - голос снят) и дельты счетчиков.
type VoteTransition struct {
	Next      *VoteType
	UpDelta   int
	DownDelta int
}

// ApplyVote - единая функция перехода для трех случаев голосования:
// нет голоса -> создание, тот же тип -> снятие, другой тип -> смена.
// Все три случая сводятся к паре (существующий голос, запрошенный тип),
// чтобы не плодить вложенные условия по месту вызова.
func ApplyVote(existing *VoteType, requested VoteType) VoteTransition {
	switch {
	case existing == nil:
		next := requested
		return VoteTransition{Next: &next, UpDelta: upPart(requested), DownDelta: downPart(requested)}
	case *existing == requested:
		return VoteTransition{Next: nil, UpDelta: -upPart(requested), DownDelta: -downPart(requested)}
	default:
		next := requested
		return VoteTransition{
			Next:      &next,
			UpDelta:   upPart(requested) - upPart(*existing),
			DownDelta: downPart(requested) - downPart(*existing),
		}
	}
}

func upPart(t VoteType) int {
	if t == VoteUp {
		return 1
	}
	return 0
}

func downPart(t VoteType) int {
	if t == VoteDown {
		return 1
	}
	return 0
}
