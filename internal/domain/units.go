package domain

// DefaultItemsPerPacket is used when a tile has no usable packet size
const DefaultItemsPerPacket = 1

// NormalizeItemsPerPacket falls back to one piece per packet for values below 1
func NormalizeItemsPerPacket(itemsPerPacket int) int {
	if itemsPerPacket < 1 {
		return DefaultItemsPerPacket
	}
	return itemsPerPacket
}

// ToPieces converts a packet and loose piece count to a total piece count
func ToPieces(packets, pieces, itemsPerPacket int) int {
	return packets*NormalizeItemsPerPacket(itemsPerPacket) + pieces
}

// ToPacketsAndLoose splits a piece count into whole packets and loose pieces
func ToPacketsAndLoose(totalPieces, itemsPerPacket int) (packets, pieces int) {
	if totalPieces <= 0 {
		return 0, 0
	}
	ipp := NormalizeItemsPerPacket(itemsPerPacket)
	return totalPieces / ipp, totalPieces % ipp
}

// ValidatePacketsPieces rejects negative inputs and the empty movement
func ValidatePacketsPieces(packets, pieces int) error {
	if packets < 0 {
		return &QuantityError{Field: "packets", Value: packets, Reason: "must not be negative"}
	}
	if pieces < 0 {
		return &QuantityError{Field: "pieces", Value: pieces, Reason: "must not be negative"}
	}
	if packets == 0 && pieces == 0 {
		return &QuantityError{Reason: "At least packets or pieces must be greater than 0"}
	}
	return nil
}

// ValidateItemsPerPacket rejects packet sizes below one piece
func ValidateItemsPerPacket(itemsPerPacket int) error {
	if itemsPerPacket < 1 {
		return &QuantityError{Field: "itemsPerPacket", Value: itemsPerPacket, Reason: "must be at least 1"}
	}
	return nil
}
