// Пакет pathtoken — преобразование виртуальных путей в последовательность
// сегментов и обратно. Все функции чистые и безопасны для конкурентного вызова.
package pathtoken

import "strings"

// Separator — разделитель сегментов пути.
const Separator = "/"

// PathToTokens разбивает путь на сегменты, отбрасывая пустые:
// "/a//b/" → ["a", "b"]. Никогда не возвращает ошибку; для пустого
// пути возвращает пустой (не nil) срез.
func PathToTokens(path string) []string {
	parts := strings.Split(path, Separator)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// TokensToPath склеивает сегменты разделителем. Пустые сегменты пропускаются,
// поэтому TokensToPath(PathToTokens(p)) — нормализованная форма p.
func TokensToPath(tokens []string) string {
	return strings.Join(PathToTokens(strings.Join(tokens, Separator)), Separator)
}

// Normalize возвращает нормализованный путь без ведущего и завершающего
// разделителя.
func Normalize(path string) string {
	return TokensToPath(PathToTokens(path))
}

// VirtualPath возвращает пользовательскую форму виртуального пути
// с ведущим разделителем. Для пустого набора сегментов — корень "/".
func VirtualPath(tokens []string) string {
	return Separator + TokensToPath(tokens)
}

// CleanTokens нормализует произвольный набор сегментов: сегменты с
// вложенным разделителем разбиваются, пустые и состоящие из пробелов
// отбрасываются.
func CleanTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		for _, p := range PathToTokens(t) {
			if strings.TrimSpace(p) == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
