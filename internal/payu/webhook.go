package payu

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader — имя заголовка с подписью уведомления PayU.
const SignatureHeader = "OpenPayu-Signature"

// NotificationStatusCompleted — статус платежа, по которому заказ считается оплаченным.
const NotificationStatusCompleted = "COMPLETED"

// ErrSignatureMissing возвращается при отсутствующем или неполном заголовке подписи.
var (
	ErrSignatureMissing = errors.New("signature missing")
	// ErrSignatureMismatch возвращается, если подпись не совпала с вычисленной.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrBadNotification возвращается, если тело уведомления не соответствует ожидаемой форме.
	ErrBadNotification = errors.New("malformed notification payload")
)

// VerifySignature проверяет подпись уведомления PayU.
// Заголовок имеет вид "sender=...;signature=...;algorithm=MD5;...".
// Подпись — hex-дайджест от конкатенации сырого тела и второго ключа.
// MD5 поддерживается только ради совместимости с текущим шлюзом;
// TODO: убрать MD5, когда PayU начнёт подписывать уведомления SHA-256.
func VerifySignature(rawBody []byte, header, secondKey string) error {
	if header == "" {
		return ErrSignatureMissing
	}

	var provided string
	algorithm := "MD5"

	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "signature="); ok {
			provided = v
		}
		if v, ok := strings.CutPrefix(part, "algorithm="); ok {
			algorithm = v
		}
	}

	if provided == "" {
		return fmt.Errorf("%w: no signature segment in header", ErrSignatureMissing)
	}

	signed := make([]byte, 0, len(rawBody)+len(secondKey))
	signed = append(signed, rawBody...)
	signed = append(signed, secondKey...)

	var expected string
	if strings.EqualFold(algorithm, "MD5") {
		sum := md5.Sum(signed)
		expected = hex.EncodeToString(sum[:])
	} else {
		sum := sha256.Sum256(signed)
		expected = hex.EncodeToString(sum[:])
	}

	if expected != provided {
		return ErrSignatureMismatch
	}

	return nil
}

// NotificationOrder — данные заказа внутри уведомления шлюза.
type NotificationOrder struct {
	OrderID    string `json:"orderId"`
	ExtOrderID string `json:"extOrderId"`
	Status     string `json:"status"`
}

// Notification — уведомление PayU об изменении статуса платежа.
type Notification struct {
	Order NotificationOrder `json:"order"`
}

// ParseNotification разбирает тело уведомления и проверяет обязательные поля.
// Разбор происходит один раз на границе: дальше бизнес-логика работает
// только с типизированной структурой.
func ParseNotification(rawBody []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(rawBody, &n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadNotification, err)
	}

	if n.Order.ExtOrderID == "" || n.Order.Status == "" {
		return nil, fmt.Errorf("%w: extOrderId and status are required", ErrBadNotification)
	}

	return &n, nil
}
