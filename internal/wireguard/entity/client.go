package entity

import (
	"fmt"
	"time"
)

// Client — клиент (peer) на wg-easy сервере. Жизненным циклом владеет
// сам сервер, мы только наблюдаем и запрашиваем переходы.
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	Address      string    `json:"address"`
	PublicKey    string    `json:"publicKey"`
	PrivateKey   string    `json:"privateKey"`
	PreSharedKey string    `json:"preSharedKey"`
	CreatedAt    time.Time `json:"createdAt"`

	// Проставляется на нашей стороне при поиске по пулу
	ServerID string `json:"-"`
}

// ServerInfo — данные wg-easy сервера, нужные для генерации конфига
type ServerInfo struct {
	PublicKey string `json:"publicKey"`
}

// ClientConfig — сгенерированный конфиг туннеля для выдачи пользователю
type ClientConfig struct {
	ConfigText string
	QRPNG      []byte
	ServerID   string
}

// ClientName возвращает детерминированное имя клиента для пользователя.
// Одно имя на пользователя — ключ инварианта "не больше одного клиента
// на весь пул".
func ClientName(userID int64) string {
	return fmt.Sprintf("client_%d", userID)
}
