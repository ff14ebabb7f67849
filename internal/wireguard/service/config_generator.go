package service

import (
	"context"
	"fmt"
	"strings"

	"wgkeeper/internal/wireguard/entity"

	qrcode "github.com/skip2/go-qrcode"
)

// GenerateConfig собирает текст конфига туннеля для клиента и PNG с QR-кодом.
// Публичный ключ сервера берётся из API с fallback на ключ из окружения.
func (c *WGEasyClient) GenerateConfig(ctx context.Context, client *entity.Client) (*entity.ClientConfig, error) {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}

	text := buildConfigText(client, info.PublicKey, c.endpoint())

	// QR рисуем локально, чтобы картинка не зависела от доступности сервера
	png, err := qrcode.Encode(text, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	return &entity.ClientConfig{
		ConfigText: text,
		QRPNG:      png,
		ServerID:   c.ServerID,
	}, nil
}

// endpoint выводит адрес WireGuard из адреса API:
// порт веб-панели 51821 меняется на порт туннеля 51820
func (c *WGEasyClient) endpoint() string {
	ep := strings.TrimPrefix(c.BaseURL, "http://")
	if strings.Contains(ep, ":51821") {
		return strings.Replace(ep, ":51821", ":51820", 1)
	}
	if !strings.Contains(ep, ":") {
		return ep + ":51820"
	}
	return ep
}

func buildConfigText(client *entity.Client, serverPublicKey, endpoint string) string {
	return "[Interface]\n" +
		"PrivateKey = " + client.PrivateKey + "\n" +
		"Address = " + client.Address + "/24\n" +
		"DNS = 1.1.1.1\n\n" +
		"[Peer]\n" +
		"PublicKey = " + serverPublicKey + "\n" +
		"PresharedKey = " + client.PreSharedKey + "\n" +
		"Endpoint = " + endpoint + "\n" +
		"AllowedIPs = 0.0.0.0/0\n" +
		"PersistentKeepalive = 25"
}
