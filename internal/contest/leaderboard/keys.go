package leaderboard

import "strconv"

// All keys of a contest share the {contest:<id>} hash tag so one script can touch them in a cluster.

func hashTag(contestID int64) string {
	return "{contest:" + strconv.FormatInt(contestID, 10) + "}"
}

func scoreKey(contestID int64) string {
	return hashTag(contestID) + ":lb:score"
}

func penaltyKey(contestID int64) string {
	return hashTag(contestID) + ":lb:penalty"
}

func statsKey(contestID, userID int64) string {
	return statsKeyPrefix(contestID) + strconv.FormatInt(userID, 10)
}

func statsKeyPrefix(contestID int64) string {
	return hashTag(contestID) + ":lb:user:"
}

func appliedKey(contestID int64) string {
	return hashTag(contestID) + ":lb:applied"
}

func versionKey(contestID int64) string {
	return hashTag(contestID) + ":lb:version"
}
