package scanner

// rule maps a lowercase phrase to the signal it raises and the guidance text
// that rides along with it. Rules are data, not control flow: adding or
// removing a phrase never touches the scan loop.
type rule struct {
	phrase   string
	signal   signalKind
	guidance string
}

type signalKind int

const (
	sigHealth signalKind = iota
	sigSafety
	sigFamily
	sigNegative
	sigPositive
	sigGoodbye
)

var rules = []rule{
	// Health mentions
	{"fell", sigHealth, "acknowledge the fall with concern and ask if they are hurt"},
	{"fall", sigHealth, "acknowledge the fall with concern and ask if they are hurt"},
	{"dizzy", sigHealth, "ask gently when the dizziness started"},
	{"pain", sigHealth, "ask where it hurts and how bad it is"},
	{"hurts", sigHealth, "ask where it hurts and how bad it is"},
	{"doctor", sigHealth, "ask how the appointment went or when it is"},
	{"hospital", sigHealth, "ask calmly what happened"},
	{"medication", sigHealth, "ask whether they have been taking it as prescribed"},
	{"pills", sigHealth, "ask whether they have been taking them as prescribed"},
	{"tired", sigHealth, "ask about their sleep"},
	{"sleep", sigHealth, "ask about their sleep"},
	{"breath", sigHealth, "ask calmly about their breathing"},
	{"chest", sigHealth, "take this seriously and ask how they feel right now"},

	// Safety mentions. Fear phrases read as both a safety mention and
	// negative emotion, so a pending reminder stays held.
	{"scared", sigSafety, "reassure them and find out what frightened them"},
	{"scared", sigNegative, ""},
	{"afraid", sigSafety, "reassure them and find out what frightened them"},
	{"afraid", sigNegative, ""},
	{"frightened", sigSafety, "reassure them and find out what frightened them"},
	{"frightened", sigNegative, ""},
	{"stranger", sigSafety, "ask calmly who it was"},
	{"locked out", sigSafety, "ask where they are right now"},
	{"smoke", sigSafety, "ask whether they are safe right now"},
	{"emergency", sigSafety, "ask whether they need help right now"},

	// Family and topics
	{"daughter", sigFamily, ""},
	{"son", sigFamily, ""},
	{"grandson", sigFamily, ""},
	{"granddaughter", sigFamily, ""},
	{"grandchildren", sigFamily, ""},
	{"grandkids", sigFamily, ""},
	{"husband", sigFamily, ""},
	{"wife", sigFamily, ""},
	{"sister", sigFamily, ""},
	{"brother", sigFamily, ""},
	{"neighbor", sigFamily, ""},
	{"friend", sigFamily, ""},

	// Negative emotion
	{"lonely", sigNegative, "acknowledge the feeling before changing subject"},
	{"alone", sigNegative, "acknowledge the feeling before changing subject"},
	{"sad", sigNegative, "acknowledge the feeling before changing subject"},
	{"miss", sigNegative, "let them talk about who or what they miss"},
	{"worried", sigNegative, "ask what is worrying them"},
	{"worry", sigNegative, "ask what is worrying them"},
	{"upset", sigNegative, "acknowledge the feeling before changing subject"},
	{"cry", sigNegative, "slow down and be gentle"},
	{"crying", sigNegative, "slow down and be gentle"},
	{"depressed", sigNegative, "slow down and be gentle"},
	{"nobody", sigNegative, "acknowledge the feeling before changing subject"},

	// Positive emotion
	{"wonderful", sigPositive, ""},
	{"lovely", sigPositive, ""},
	{"happy", sigPositive, ""},
	{"great", sigPositive, ""},
	{"laughed", sigPositive, ""},
	{"enjoyed", sigPositive, ""},
	{"beautiful", sigPositive, ""},

	// Goodbye candidates
	{"goodbye", sigGoodbye, ""},
	{"bye now", sigGoodbye, ""},
	{"talk to you later", sigGoodbye, ""},
	{"talk later", sigGoodbye, ""},
	{"i should go", sigGoodbye, ""},
	{"i have to go", sigGoodbye, ""},
	{"i need to go", sigGoodbye, ""},
	{"gotta go", sigGoodbye, ""},
	{"see you", sigGoodbye, ""},
	{"good night", sigGoodbye, ""},
}

// topicOf maps a family phrase to the topic tag reported upstream.
var topicOf = map[string]string{
	"daughter":      "family",
	"son":           "family",
	"grandson":      "family",
	"granddaughter": "family",
	"grandchildren": "family",
	"grandkids":     "family",
	"husband":       "family",
	"wife":          "family",
	"sister":        "family",
	"brother":       "family",
	"neighbor":      "social",
	"friend":        "social",
}
