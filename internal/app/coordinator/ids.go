package coordinator

import "github.com/google/uuid"

func newTransferID() string {
	return uuid.Must(uuid.NewV7()).String()
}
