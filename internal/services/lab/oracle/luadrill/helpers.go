package luadrill

import (
	"math"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

func registerHelpers(l *lua.State) {
	l.Register("choice_step", choiceStep)
	l.Register("answer_step", answerStep)

	l.NewTable()
	lua.SetFunctions(l, labFunctions, 0)
	l.PushString(oracle.TimeoutResponse)
	l.SetField(-2, "TIMEOUT")
	l.PushInteger(oracle.MaxScore)
	l.SetField(-2, "MAX_SCORE")
	l.SetGlobal("lab")
}

var labFunctions = []lua.RegistryFunction{
	{Name: "contains", Function: labContains},
	{Name: "keyword_score", Function: labKeywordScore},
}

// choiceStep builds {scenario=text, choices=choices, step_type="multiple_choice"}.
func choiceStep(l *lua.State) int {
	text := lua.CheckString(l, 1)
	lua.CheckType(l, 2, lua.TypeTable)
	l.NewTable()
	l.PushString(text)
	l.SetField(-2, "scenario")
	l.PushValue(2)
	l.SetField(-2, "choices")
	l.PushString(string(oracle.StepTypeMultipleChoice))
	l.SetField(-2, "step_type")
	return 1
}

// answerStep builds {scenario=text, step_type="short_answer"}.
func answerStep(l *lua.State) int {
	text := lua.CheckString(l, 1)
	l.NewTable()
	l.PushString(text)
	l.SetField(-2, "scenario")
	l.PushString(string(oracle.StepTypeShortAnswer))
	l.SetField(-2, "step_type")
	return 1
}

// labContains is a case-insensitive substring test.
func labContains(l *lua.State) int {
	haystack := lua.CheckString(l, 1)
	needle := lua.CheckString(l, 2)
	l.PushBoolean(strings.Contains(strings.ToLower(haystack), strings.ToLower(needle)))
	return 1
}

// labKeywordScore scores text by the share of keywords it mentions, scaled
// to limit (lab.MAX_SCORE by default).
func labKeywordScore(l *lua.State) int {
	text := strings.ToLower(lua.CheckString(l, 1))
	lua.CheckType(l, 2, lua.TypeTable)
	limit := lua.OptInteger(l, 3, oracle.MaxScore)

	keywords := stringList(l, 2)
	if len(keywords) == 0 {
		l.PushInteger(0)
		return 1
	}
	hits := 0
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(text, strings.ToLower(keyword)) {
			hits++
		}
	}
	l.PushInteger(int(math.Round(float64(limit) * float64(hits) / float64(len(keywords)))))
	return 1
}

func stringList(l *lua.State, index int) []string {
	values, _ := tableToGo(l, index).([]any)
	out := make([]string, 0, len(values))
	for _, value := range values {
		if s, ok := value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tableToMap(l *lua.State, index int) map[string]any {
	output := map[string]any{}
	if l.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = l.AbsIndex(index)
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			output[key] = luaToGo(l, -1)
		}
		l.Pop(1)
	}
	return output
}

func luaToGo(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		value, _ := l.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := l.ToNumber(index)
		if math.Mod(value, 1) == 0 {
			return int(value)
		}
		return value
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil
	}
}

// tableToGo returns []any for sequences and map[string]any otherwise.
func tableToGo(l *lua.State, index int) any {
	if l.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = l.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			result = append(result, luaToGo(l, -1))
			l.Pop(1)
		}
		return result
	}

	return tableToMap(l, index)
}
