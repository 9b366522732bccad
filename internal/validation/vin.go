// Package validation содержит функции валидации входных данных.
package validation

import "strings"

var vinWeights = [17]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// IsValidVIN проверяет корректность идентификационного номера автомобиля (VIN)
// по контрольной цифре в девятой позиции (ISO 3779). Буквы I, O и Q в VIN не допускаются.
func IsValidVIN(vin string) bool {
	if len(vin) != 17 {
		return false
	}

	vin = strings.ToUpper(vin)
	sum := 0

	for i := 0; i < 17; i++ {
		value, ok := vinCharValue(vin[i])
		if !ok {
			return false
		}
		sum += value * vinWeights[i]
	}

	check := byte('0' + sum%11)
	if sum%11 == 10 {
		check = 'X'
	}

	return vin[8] == check
}

func vinCharValue(ch byte) (int, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0'), true
	case ch >= 'A' && ch <= 'H':
		return int(ch-'A') + 1, true
	case ch >= 'J' && ch <= 'N':
		return int(ch-'J') + 1, true
	case ch == 'P':
		return 7, true
	case ch == 'R':
		return 9, true
	case ch >= 'S' && ch <= 'Z':
		return int(ch-'S') + 2, true
	default:
		return 0, false
	}
}
