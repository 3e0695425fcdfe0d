package observation

// Symptom is one entry of the closed symptom vocabulary.
type Symptom struct {
	Key     string `json:"key"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// Vocabulary lists the trackable symptoms with their SNOMED CT codes, in
// display order.
var Vocabulary = []Symptom{
	{Key: "abdominal-pain", Code: "21522001", Display: "Abdominal pain"},
	{Key: "bleeding", Code: "386661006", Display: "Bleeding"},
	{Key: "headache", Code: "25064002", Display: "Headache"},
	{Key: "body-ache", Code: "10601006", Display: "Body ache"},
	{Key: "leg-pain", Code: "229373006", Display: "Leg pain"},
	{Key: "chest-pain", Code: "29857009", Display: "Chest pain"},
	{Key: "breast-pain", Code: "75879001", Display: "Breast pain"},
	{Key: "urination-discomfort", Code: "49650001", Display: "Dysuria"},
	{Key: "sadness", Code: "35489007", Display: "Depressive disorder / sadness"},
	{Key: "anxiety", Code: "48694002", Display: "Anxiety"},
}

var (
	byKey  = map[string]Symptom{}
	byCode = map[string]Symptom{}
)

func init() {
	for _, s := range Vocabulary {
		byKey[s.Key] = s
		byCode[s.Code] = s
	}
}

// LookupKey resolves a symptom key such as "headache".
func LookupKey(key string) (Symptom, bool) {
	s, ok := byKey[key]
	return s, ok
}

// LookupCode resolves a SNOMED code, falling back to a symptom key.
func LookupCode(code string) (Symptom, bool) {
	if s, ok := byCode[code]; ok {
		return s, true
	}
	return LookupKey(code)
}
