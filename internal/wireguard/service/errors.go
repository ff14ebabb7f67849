package service

import "errors"

var (
	// ErrGatewayUnreachable — сетевая ошибка или таймаут при обращении к wg-easy
	ErrGatewayUnreachable = errors.New("wg-easy server unreachable")

	// ErrUnauthorized — сервер ответил 401 даже после повторного логина
	ErrUnauthorized = errors.New("wg-easy authentication failed")

	// ErrClientNotFound — клиента нет на сервере; ожидаемый исход, не сбой
	ErrClientNotFound = errors.New("wg client not found")

	// ErrServerKeyUnavailable — публичный ключ сервера не получить ни из API,
	// ни из окружения
	ErrServerKeyUnavailable = errors.New("wg server public key unavailable")

	// ErrDuplicateServer — сервер с таким ID уже зарегистрирован в пуле
	ErrDuplicateServer = errors.New("server already registered")

	// ErrNoServersAvailable — в пуле нет ни одного подходящего сервера
	ErrNoServersAvailable = errors.New("no servers available")

	// ErrVerificationFailed — сервер принял мутацию, но повторное чтение
	// показало другое состояние
	ErrVerificationFailed = errors.New("client state verification failed")
)

// IsTransient сообщает, стоит ли повторять операцию после этой ошибки
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnreachable)
}
