package gameobj

// Kind initials. The first character of every object id is one of these.
// Plain game objects share the geo initial.
const (
	KindGeo           byte = 'G'
	KindBag           byte = 'B'
	KindDataContainer byte = 'D'
	KindGroup         byte = 'R'
	KindItem          byte = 'I'
	KindLocation      byte = 'L'
	KindPlayer        byte = 'P'
	KindQuest         byte = 'Q'
)

var kindNames = map[byte]string{
	KindGeo:           "Geo",
	KindBag:           "Bag",
	KindDataContainer: "DataContainer",
	KindGroup:         "Group",
	KindItem:          "Item",
	KindLocation:      "Location",
	KindPlayer:        "Player",
	KindQuest:         "Quest",
}

// Kinds lists every known kind initial.
func Kinds() []byte {
	return []byte{KindGeo, KindBag, KindDataContainer, KindGroup, KindItem, KindLocation, KindPlayer, KindQuest}
}

// KindName returns a readable name for a kind initial.
func KindName(k byte) string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "GameObject"
}

// ValidKind reports whether k is a known kind initial.
func ValidKind(k byte) bool {
	_, ok := kindNames[k]
	return ok
}

// KindOf returns the kind initial encoded in an object id.
func KindOf(id string) byte {
	if id == "" {
		return 0
	}
	return id[0]
}
