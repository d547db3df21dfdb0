package chatterbox

// Language is one supported speech language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languages = []Language{
	{"ar", "Arabic"},
	{"da", "Danish"},
	{"de", "German"},
	{"el", "Greek"},
	{"en", "English"},
	{"es", "Spanish"},
	{"fi", "Finnish"},
	{"fr", "French"},
	{"he", "Hebrew"},
	{"hi", "Hindi"},
	{"it", "Italian"},
	{"ja", "Japanese"},
	{"ko", "Korean"},
	{"ms", "Malay"},
	{"nl", "Dutch"},
	{"no", "Norwegian"},
	{"pl", "Polish"},
	{"pt", "Portuguese"},
	{"ru", "Russian"},
	{"sv", "Swedish"},
	{"sw", "Swahili"},
	{"tr", "Turkish"},
	{"zh", "Chinese"},
}

var emotions = []string{"neutral", "happy", "sad", "angry", "excited", "calm", "dramatic"}

// Languages returns a copy of the supported language list.
func Languages() []Language {
	return append([]Language(nil), languages...)
}

// LanguageCodes returns the supported codes in catalogue order.
func LanguageCodes() []string {
	codes := make([]string, len(languages))
	for i, l := range languages {
		codes[i] = l.Code
	}
	return codes
}

func Emotions() []string {
	return append([]string(nil), emotions...)
}

func supportedLanguage(code string) bool {
	for _, l := range languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

func supportedEmotion(e string) bool {
	for _, x := range emotions {
		if x == e {
			return true
		}
	}
	return false
}
