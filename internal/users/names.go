package users

import "strings"

// koreanSurnames are the recognised Korean family names, two-syllable ones first.
var koreanSurnames = toSet(
	"독고", "동방", "남궁", "등정", "망절", "무본", "사공", "서문", "선우", "어금", "제갈", "황목", "황보",
	"가", "간", "갈", "감", "강", "견", "경", "계", "고", "곡", "공", "곽", "관", "교", "구", "국", "궁", "궉", "권",
	"근", "금", "기", "길", "김", "나", "난", "남", "낭", "내", "노", "뇌", "다", "단", "담", "당", "대", "도", "독",
	"돈", "동", "두", "등", "라", "란", "랑", "려", "로", "뢰", "류", "리", "림", "마", "만", "매", "맹", "명", "모",
	"목", "묘", "무", "묵", "문", "미", "민", "박", "반", "방", "배", "백", "번", "범", "변", "보", "복", "봉", "부",
	"비", "빈", "빙", "사", "산", "삼", "상", "서", "석", "선", "설", "섭", "성", "소", "손", "송", "수", "순", "승",
	"시", "신", "심", "아", "안", "애", "야", "양", "어", "엄", "여", "연", "염", "엽", "영", "예", "오", "옥", "온",
	"옹", "완", "왕", "요", "용", "우", "운", "원", "위", "유", "육", "윤", "은", "음", "이", "인", "임", "자", "장",
	"전", "점", "정", "제", "조", "종", "좌", "주", "증", "지", "진", "차", "창", "채", "천", "초", "총", "최", "추",
	"탁", "탄", "탕", "태", "판", "팽", "편", "평", "포", "표", "풍", "피", "필", "하", "학", "한", "함", "해", "허",
	"현", "형", "호", "홍", "화", "황", "후",
)

func toSet(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

// BuildFullName renders a display name from its parts according to the
// language. The first matching rule wins:
//
//   - either part is plain ASCII letters, or lang is "en": "first last"
//   - last is a Korean surname, or lang is "ko": "lastfirst"
//   - lang is "zh": "first last"
//   - lang is "ja": "lastfirst"
//
// Anything else yields "".
func BuildFullName(langKey, firstName, lastName string) string {
	switch {
	case isASCIIAlpha(firstName) || isASCIIAlpha(lastName) || langKey == "en":
		return joinNames(firstName, lastName, " ")
	case isKoreanSurname(lastName) || langKey == "ko":
		return joinNames(lastName, firstName, "")
	case langKey == "zh":
		return joinNames(firstName, lastName, " ")
	case langKey == "ja":
		return joinNames(lastName, firstName, "")
	}
	return ""
}

func isKoreanSurname(s string) bool {
	_, ok := koreanSurnames[s]
	return ok
}

func joinNames(a, b, sep string) string {
	var sb strings.Builder
	if isValid(a) {
		sb.WriteString(a)
	}
	if isValid(b) {
		if isValid(a) {
			sb.WriteString(sep)
		}
		sb.WriteString(b)
	}
	return sb.String()
}

func isASCIIAlpha(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// isValid rejects empty strings and the stringified null some clients send.
func isValid(s string) bool {
	return s != "" && !strings.EqualFold(strings.TrimSpace(s), "null")
}
